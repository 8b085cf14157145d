// Package server は、最新フレームのHTTP配信を管理します。
//
// このパッケージは、HTTPサーバーの起動、ルーティング、
// MJPEGストリームとスナップショットの配信、管理用の停止要求を担当します。
//
// 責務:
//   - HTTPサーバーの起動と管理
//   - MJPEGストリーム (multipart/x-mixed-replace) の配信
//   - 動作状況の返却と停止要求の受け付け
//
// 仕様:
//   - ginを使用
//   - フレームはフレームバスのスナップショットから取得し、配信側でJPEGにする
//   - グレースフルシャットダウンに対応し、配信中のストリームは先に閉じる
//   - 複数クライアントの同時接続をサポート
package server
