// Package camera は1台のカメラから連続してフレームを取得する
//
// # 責務
// - カメラデバイスを開く (OpenCV の VideoCapture、または ffmpeg 経由の V4L2)
// - 専用ゴルーチンでフレームを取り続け、最新の1枚だけを保持する
// - V4L2デバイスの検出と実名取得
//
// # 仕様
// - Latest は待たずに最新のフレームを返す。キューではないので取りこぼしは許容する
// - 一時的な読み込み失敗はログに残して次の取得で再試行し、最新フレームは変えない
// - 連続失敗が上限に達したらデバイス喪失 (ErrDeviceLost) として取得を終える
// - Stop はデバイスを閉じる。何度呼んでも安全
//
// # 前提要件
//   - v4l-utils: カメラ名の取得に使用
//     Ubuntu/Debian: sudo apt install v4l-utils
//   - ffmpeg: ffmpeg バックエンドを使う場合
//     Ubuntu/Debian: sudo apt install ffmpeg
//   - videoグループへの参加: デバイスアクセス権限
//     sudo usermod -a -G video $USER
package camera
