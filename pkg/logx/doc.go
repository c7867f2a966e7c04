// Package logx provides the bot's structured logging.
//
// It wraps zerolog behind a small Logger/Field API so components don't
// depend on a concrete sink. The Service supports console, file and an
// optional Telegram sink (admin log chat) and can swap outputs at runtime
// when the config is hot-reloaded.
package logx
