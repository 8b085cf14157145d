// Package pipeline はフレーム取得から通知までを1サイクルずつ進める制御ループ
//
// # 責務
// - フレームソースから最新フレームを受け取り、処理解像度へ縮小する
// - グレースケール化とぼかしの後、ウォームアップ後のフレームで動体を検知する
// - 時刻と動体の枠を描いたフレームを公開する
// - 検知結果を通知ゲートへ渡し、最後に背景を更新する
//
// # 仕様
// - 1サイクルの順序: 取得 → 縮小 → グレースケール → 検知 → 注釈 → 通知判断 → 公開 → 背景更新
// - 新しいフレームがないサイクルは何もしない
// - 停止の確認はサイクルの合間に1回行う。処理中のサイクルは中断しない
// - 検知の失敗はそのサイクルだけの失敗として扱い、ループは続ける
// - フレームソースがデバイスを喪失したらループを終える
package pipeline
