// Package notify は動体検知の通知を扱う
//
// # 責務
//
//   - 通知するかどうかの判断 (Gate)
//   - 通知手段の抽象化 (Notifier) と、メール/SMS、Telegram、MQTT、ログの各実装
//   - 設定から通知手段を選ぶ (New)
//
// # 仕様
//
// Gate は動体ありの信号を受けたとき、前回の通知から設定された間隔以上
// 経過していれば通知する。送信の失敗はログに残すだけで呼び出し側へは
// 返さない。失敗した送信も前回の通知として数えるので、通知手段が
// 不調なときに送信が連発することはない。
//
// SMS は各キャリアのメールゲートウェイ宛てのメールとして送る。
package notify
