/*
Copyright © 2025 Valentyn Solomko <valentyn.solomko@gmail.com>

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
package cmd

import (
	"context"
	"fmt"

	"google.golang.org/api/option"

	"github.com/valpere/wenyan/internal/config"
	"github.com/valpere/wenyan/internal/translator"
)

// service is a translation backend that can also report its model.
type service interface {
	translator.TranslationService
	Model() string
}

// buildService constructs the configured provider. The returned close
// function releases client resources and is never nil.
func buildService(ctx context.Context, c *config.Config) (service, func() error, error) {
	noop := func() error { return nil }

	switch c.Provider {
	case config.ProviderOpenAI:
		return translator.NewOpenAIService(c.Service), noop, nil
	case config.ProviderOpenRouter:
		return translator.NewOpenRouterService(c.Service), noop, nil
	case config.ProviderOllama:
		return translator.NewOllamaTranslator(c.Service), noop, nil
	case config.ProviderVertex:
		svc, err := translator.NewVertexService(ctx, c.Service)
		if err != nil {
			return nil, noop, err
		}
		return svc, svc.Close, nil
	}
	return nil, noop, fmt.Errorf("unknown provider: %s", c.Provider)
}

// storageOptions passes the service account file to the GCS client.
func storageOptions(c *config.Config) []option.ClientOption {
	if c.Service.Credentials == "" {
		return nil
	}
	return []option.ClientOption{option.WithCredentialsFile(c.Service.Credentials)}
}
