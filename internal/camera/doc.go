// Package camera カメラデバイスの検出と設定の管理を担う
//
// # 責務
// - /dev/video* の自動検出と対応解像度・フレームレートの判定
// - カメラ一覧のキャッシュと現在設定（解像度・FPS）の保持
// - ffmpeg経由のV4L2ストリーミングとスナップショット取得
// - 実デバイスなしで動作確認するためのテストパターン映像源
//
// # 仕様
// - 解像度候補は 1920x1080 から 256x144、FPS候補は 60 から 5 を既定とする
// - 検出できなかった場合は 640x480 / 30fps を対応値とする
// - 現在設定の既定値は最大解像度と最大FPS
// - Thread-safe な操作をサポート
//
// # 前提要件
//   - v4l-utils: カメラ名と対応フォーマットの取得に使用
//     Ubuntu/Debian: sudo apt install v4l-utils
//   - ffmpeg: 画像キャプチャとストリーミングに使用
//     Ubuntu/Debian: sudo apt install ffmpeg
//   - videoグループへの参加: デバイスアクセス権限
//     sudo usermod -a -G video $USER
package camera
