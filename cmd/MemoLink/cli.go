package main

import "github.com/alecthomas/kong"

var version = "dev"

// CLI 命令行入口
type CLI struct {
	Config string `short:"c" env:"MEMOLINK_CONFIG" help:"配置文件路径" default:"configs/config_local.toml"`
	Env    string `help:".env 文件路径" default:".env"`

	Serve     ServeCmd     `cmd:"" default:"1" help:"启动 HTTP 服务"`
	Token     TokenCmd     `cmd:"" help:"为指定 owner 签发 JWT"`
	Reconcile ReconcileCmd `cmd:"" help:"执行一轮向量对账后退出"`
	Version   VersionCmd   `cmd:"" help:"显示版本"`
}

type ServeCmd struct{}

type TokenCmd struct {
	UUID     string `arg:"" help:"owner id（写入 uuid claim）"`
	Username string `short:"u" help:"用户名"`
	TTL      string `help:"有效期，如 24h；为空时使用 jwtConfig.expireHours"`
}

type ReconcileCmd struct{}

type VersionCmd struct{}

func kongVars() kong.Vars {
	return kong.Vars{"version": version}
}
