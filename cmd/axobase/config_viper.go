package main

import (
	"strings"

	"github.com/spf13/viper"

	"github.com/axobase001/axobase/chain"
	"github.com/axobase001/axobase/db"
	"github.com/axobase001/axobase/deploy"
	"github.com/axobase001/axobase/httpapi"
	"github.com/axobase001/axobase/storage"
	"github.com/axobase001/axobase/vault"
)

func dbConfigFromViper() db.Config {
	return db.Config{
		Driver: strings.TrimSpace(viper.GetString("db.driver")),
		DSN:    strings.TrimSpace(viper.GetString("db.dsn")),
		SQLite: db.SQLiteConfig{
			WAL:           viper.GetBool("db.sqlite.wal"),
			BusyTimeoutMs: viper.GetInt("db.sqlite.busy_timeout_ms"),
			ForeignKeys:   viper.GetBool("db.sqlite.foreign_keys"),
		},
		Pool: db.PoolConfig{
			MaxOpenConns:    viper.GetInt("db.pool.max_open_conns"),
			MaxIdleConns:    viper.GetInt("db.pool.max_idle_conns"),
			ConnMaxLifetime: viper.GetDuration("db.pool.conn_max_lifetime"),
		},
	}
}

func chainConfigFromViper() chain.Config {
	return chain.Config{
		RPCURL:          strings.TrimSpace(viper.GetString("chain.rpc_url")),
		ChainID:         viper.GetInt64("chain.chain_id"),
		ContractAddress: strings.TrimSpace(viper.GetString("chain.contract_address")),
		PollInterval:    viper.GetDuration("chain.poll_interval"),
		Confirmations:   uint64(viper.GetInt("chain.confirmations")),
		RequestTimeout:  viper.GetDuration("chain.request_timeout"),
		StartBlock:      uint64(viper.GetInt64("chain.start_block")),
	}
}

func vaultConfigFromViper() vault.Config {
	return vault.Config{
		TTL:           viper.GetDuration("vault.ttl"),
		SweepInterval: viper.GetDuration("vault.sweep_interval"),
	}
}

func storageConfigFromViper() storage.Config {
	return storage.Config{
		GatewayURL: strings.TrimSpace(viper.GetString("storage.gateway_url")),
		Production: isProduction(),
		Timeout:    viper.GetDuration("storage.timeout"),
	}
}

func providerConfigFromViper() deploy.ProviderConfig {
	return deploy.ProviderConfig{
		Endpoint: strings.TrimSpace(viper.GetString("provider.endpoint")),
		Timeout:  viper.GetDuration("provider.timeout"),
	}
}

func coordinatorConfigFromViper() deploy.CoordinatorConfig {
	return deploy.CoordinatorConfig{
		Network:      strings.TrimSpace(viper.GetString("provider.network")),
		InitialFunds: viper.GetInt64("initial_funds"),
	}
}

func apiConfigFromViper() httpapi.Config {
	return httpapi.Config{
		Listen: strings.TrimSpace(viper.GetString("api.listen")),
	}
}

func isProduction() bool {
	return strings.EqualFold(strings.TrimSpace(viper.GetString("environment")), "production")
}
