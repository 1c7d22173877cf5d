/*
Copyright 2025 Saldo Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package saldo

import (
	"embed"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"

	"github.com/saldo-finance/saldo/config"
	"github.com/saldo-finance/saldo/database"
	redis_db "github.com/saldo-finance/saldo/internal/redis-db"
	"github.com/saldo-finance/saldo/provider"
)

var tracer = otel.Tracer("saldo.core")

//go:embed sql/*.sql
var SQLFiles embed.FS

// Saldo represents the main struct for the integration core. Every service
// (queue, provisioning, webhooks, ledger) hangs off this struct.
type Saldo struct {
	queue      *Queue
	redis      redis.UniversalClient
	datasource database.IDataSource
	provider   provider.Client
}

// NewSaldo initializes a new instance of Saldo with the provided datasource.
// It fetches the configuration and initializes the Redis client, task queue
// and provider client.
func NewSaldo(db database.IDataSource) (*Saldo, error) {
	configuration, err := config.Fetch()
	if err != nil {
		return nil, err
	}
	redisClient, err := redis_db.NewRedisClient([]string{fmt.Sprintf("redis://%s", configuration.Redis.Dns)}, configuration.Redis.SkipTLSVerify)
	if err != nil {
		return nil, err
	}
	newQueue := NewQueue(configuration)

	var providerClient provider.Client
	if configuration.Provider.BaseURL != "" {
		providerClient = provider.NewHTTPClient(configuration)
	} else {
		providerClient = provider.NewMockClient()
	}

	newSaldo := &Saldo{
		datasource: db,
		queue:      newQueue,
		redis:      redisClient.Client(),
		provider:   providerClient,
	}
	return newSaldo, nil
}
