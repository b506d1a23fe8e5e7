package config

import (
	_ "embed"
)

var (
	//go:embed defaults/server.yaml
	serverDocument []byte

	//go:embed defaults/gui.yaml
	guiDocument []byte
)

// ServerDocument 返回内置服务端路由表原文
func ServerDocument() []byte { return append([]byte(nil), serverDocument...) }

// GUIDocument 返回内置图形界面路由表原文
func GUIDocument() []byte { return append([]byte(nil), guiDocument...) }

// ServerDefault 服务端与数据管道的默认路由表
// 文件写入 Logs/ 下的 data.log、info.log、error.log，
// InfluxDB 仅在 ORBISAT_INFLUXDB_ENABLED 为 true 时启用
func ServerDefault(secrets *Secrets) (*LoggingConfig, error) {
	return Parse(serverDocument, secrets)
}

// GUIDefault 图形界面的默认路由表，与服务端相反地关闭已存在的日志器
func GUIDefault(secrets *Secrets) (*LoggingConfig, error) {
	return Parse(guiDocument, secrets)
}
