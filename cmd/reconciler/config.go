package main

import (
	"context"
	"strings"

	"github.com/spf13/viper"
)

const envPrefix = "RECONCILER"

type keyKind int

const (
	kindString keyKind = iota
	kindInt
	kindBool
	kindDuration
)

// configKeys lists every dotted key core.Config understands. viper only
// reports environment values for keys it is asked about.
var configKeys = map[string]keyKind{
	"service_name": kindString,

	"database.driver": kindString,
	"database.dsn":    kindString,
	"database.debug":  kindBool,

	"http.addr": kindString,

	"identity.api_url":        kindString,
	"identity.api_key":        kindString,
	"identity.webhook_secret": kindString,
	"identity.jwt_public_key": kindString,
	"identity.issuer":         kindString,
	"identity.sync_webhooks":  kindBool,

	"gateway.api_url":        kindString,
	"gateway.key_id":         kindString,
	"gateway.key_secret":     kindString,
	"gateway.webhook_secret": kindString,
	"gateway.plan_id":        kindString,

	"retry.max_attempts":    kindInt,
	"retry.initial_backoff": kindDuration,
	"retry.max_backoff":     kindDuration,
	"retry.local_backoff":   kindDuration,

	"queue.driver":         kindString,
	"queue.redis_addr":     kindString,
	"queue.redis_password": kindString,
	"queue.redis_db":       kindInt,
	"queue.workers":        kindInt,

	"defaults.currency":   kindString,
	"defaults.user_role":  kindString,
	"defaults.admin_role": kindString,
}

// viperLoader reads an optional config file plus RECONCILER_* environment
// variables, e.g. RECONCILER_GATEWAY_KEY_SECRET.
type viperLoader struct {
	v *viper.Viper
}

func newViperLoader(configFile string) (*viperLoader, error) {
	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if strings.TrimSpace(configFile) != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, err
		}
	}
	return &viperLoader{v: v}, nil
}

func (l *viperLoader) LoadRaw(context.Context) (map[string]any, error) {
	out := map[string]any{}
	for key, kind := range configKeys {
		if !l.v.IsSet(key) {
			continue
		}
		var value any
		switch kind {
		case kindInt:
			value = l.v.GetInt(key)
		case kindBool:
			value = l.v.GetBool(key)
		case kindDuration:
			value = l.v.GetDuration(key)
		default:
			value = l.v.GetString(key)
		}
		section, name, nested := strings.Cut(key, ".")
		if !nested {
			out[key] = value
			continue
		}
		sub, ok := out[section].(map[string]any)
		if !ok {
			sub = map[string]any{}
			out[section] = sub
		}
		sub[name] = value
	}
	return out, nil
}
