// Package server は、カメラ映像を配信するHTTPサーバーを管理します。
//
// このパッケージは、HTTPサーバーの起動、ルーティング、
// MJPEGストリームとスナップショットの配信、ページの配信を担当します。
//
// 責務:
//   - HTTPサーバーの起動とグレースフルシャットダウン
//   - カメラ一覧と設定変更のJSON API
//   - multipart/x-mixed-replace によるMJPEGストリーミング
//   - 一覧ページとプレビューページ（埋め込みテンプレート）の配信
//   - ヘルスチェックとメトリクスの公開
//
// 仕様:
//   - ルーティングにはginを使用
//   - 設定変更APIはレート制限する
//   - ストリームごとにIDを振ってログに記録する
package server
