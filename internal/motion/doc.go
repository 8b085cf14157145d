// Package motion は背景差分による動体検知を担う
//
// # 責務
// - 指数加重移動平均による背景モデルの維持
// - 背景との差分から前景マスクを作る（二値化 + 収縮2回 + 膨張2回）
// - 前景の連結成分から動体の包含矩形を求める
//
// # 仕様
// - 背景は最初の Update で初期化される。それ以前の Detect は ErrNoBackground
// - 最小面積ちょうどの成分は採用する
// - 成分が残らなければ「動体なし」。面積0の矩形は返さない
// - Detector は単一ゴルーチン専用で、内部で排他制御はしない
package motion
