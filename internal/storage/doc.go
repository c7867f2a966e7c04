// Package storage persists the bot's state: users, subscriptions, hourly
// request-budget windows, the shared account cache and daily queue
// snapshots.
//
// Budget windows and cache entries are durable on purpose: a redeploy must
// not reset the hourly ceiling or forget cache freshness.
package storage
