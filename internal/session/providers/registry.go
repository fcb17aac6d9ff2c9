/*
Copyright 2025.

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

package providers

import "errors"

// Registry holds the configured provider instance for each storage tier.
type Registry struct {
	hot     HotStoreProvider
	durable DurableStoreProvider
}

// NewRegistry creates an empty Registry with no providers configured.
func NewRegistry() *Registry {
	return &Registry{}
}

// SetHotStore registers a hot tier provider.
func (r *Registry) SetHotStore(p HotStoreProvider) {
	r.hot = p
}

// SetDurableStore registers a durable tier provider.
func (r *Registry) SetDurableStore(p DurableStoreProvider) {
	r.durable = p
}

// HotStore returns the configured hot tier provider.
// Returns ErrProviderNotConfigured if no hot store has been set.
func (r *Registry) HotStore() (HotStoreProvider, error) {
	if r.hot == nil {
		return nil, ErrProviderNotConfigured
	}
	return r.hot, nil
}

// DurableStore returns the configured durable tier provider.
// Returns ErrProviderNotConfigured if no durable store has been set.
func (r *Registry) DurableStore() (DurableStoreProvider, error) {
	if r.durable == nil {
		return nil, ErrProviderNotConfigured
	}
	return r.durable, nil
}

// Close closes all configured providers, collecting any errors.
func (r *Registry) Close() error {
	var errs []error
	if r.hot != nil {
		if err := r.hot.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if r.durable != nil {
		if err := r.durable.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
