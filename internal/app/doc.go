// Package app は設定から各コンポーネントを組み立て、起動と停止をまとめる
//
// 責務:
//   - 通知、検知器、フレームソース、フレームバス、制御ループ、配信サーバーの作成
//   - 制御ループと配信サーバーの同時実行
//   - どちらかが止まったら停止フラグを立てて他方も止める
//
// 通知設定の誤りは起動を止めず、通知を無効にして続行する。
package app
