// Copyright (c) The spid-go Authors
// SPDX-License-Identifier: MPL-2.0

package spidsaml

import (
	"context"
	"encoding/json"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/hashicorp/go-multierror"

	"github.com/spid-go/spidsaml/models/metadata"
)

// StaticStore is an IdentityProviderStore backed by an in-memory map. It is
// safe for concurrent use.
type StaticStore struct {
	mu   sync.RWMutex
	idps map[string]*metadata.EntityDescriptorIDPSSO
}

func NewStaticStore() *StaticStore {
	return &StaticStore{idps: make(map[string]*metadata.EntityDescriptorIDPSSO)}
}

func (s *StaticStore) Add(idp *metadata.EntityDescriptorIDPSSO) error {
	const op = "spidsaml.StaticStore.Add"

	if idp == nil || idp.EntityID == "" {
		return fmt.Errorf("%s: descriptor has no entity ID: %w", op, ErrInvalidParameter)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.idps[idp.EntityID] = idp
	return nil
}

func (s *StaticStore) EntityDescriptor(entityID string) (*metadata.EntityDescriptorIDPSSO, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	idp, ok := s.idps[entityID]
	return idp, ok
}

func (s *StaticStore) EntityIDs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.idps))
	for id := range s.idps {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// LoadIdentityProviders scans the configured metadata directories for IdP
// metadata documents (*.xml) and returns a store indexing them by entity
// ID. Unparseable files are collected into one error; the valid ones still
// load.
func LoadIdentityProviders(dirs ...string) (*StaticStore, error) {
	const op = "spidsaml.LoadIdentityProviders"

	store := NewStaticStore()
	var errs error

	for _, dir := range dirs {
		entries, err := os.ReadDir(dir)
		if err != nil {
			errs = multierror.Append(errs, fmt.Errorf("%s: %w", op, err))
			continue
		}
		for _, entry := range entries {
			if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".xml") {
				continue
			}
			path := filepath.Join(dir, entry.Name())
			raw, err := os.ReadFile(path)
			if err != nil {
				errs = multierror.Append(errs, fmt.Errorf("%s: %w", op, err))
				continue
			}
			idp, err := ParseIdentityProviderMetadata(raw)
			if err != nil {
				errs = multierror.Append(errs, fmt.Errorf("%s: %s: %w", op, path, err))
				continue
			}
			if err := store.Add(idp); err != nil {
				errs = multierror.Append(errs, fmt.Errorf("%s: %s: %w", op, path, err))
			}
		}
	}

	return store, errs
}

// ParseIdentityProviderMetadata unmarshals one IdP EntityDescriptor.
func ParseIdentityProviderMetadata(raw []byte) (*metadata.EntityDescriptorIDPSSO, error) {
	const op = "spidsaml.ParseIdentityProviderMetadata"

	idp := &metadata.EntityDescriptorIDPSSO{}
	if err := xml.Unmarshal(raw, idp); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if idp.EntityID == "" {
		return nil, fmt.Errorf("%s: document has no entityID: %w", op, ErrInvalidParameter)
	}
	if len(idp.IDPSSODescriptor) == 0 {
		return nil, fmt.Errorf("%s: %q describes no IdP role: %w", op, idp.EntityID, ErrInvalidParameter)
	}
	return idp, nil
}

// DefaultRegistryURL is the public SPID registry endpoint listing the
// accredited identity providers.
const DefaultRegistryURL = "https://registry.spid.gov.it/entities-idp?&output=json&custom=info_display_base"

type registryDocument struct {
	IDPs []registryEntry `json:"data"`
}

type registryEntry struct {
	EntityID    string `json:"entity_id"`
	MetadataURL string `json:"metadata_url"`
}

// RegistryIdentityProviders queries the SPID registry for the accredited
// IdPs and downloads the metadata of each one. registryURL may be empty,
// in which case DefaultRegistryURL is used. IdPs whose metadata cannot be
// fetched or parsed are collected into one error; the others still load.
func RegistryIdentityProviders(ctx context.Context, client *http.Client, registryURL string) (*StaticStore, error) {
	const op = "spidsaml.RegistryIdentityProviders"

	if client == nil {
		client = http.DefaultClient
	}
	if registryURL == "" {
		registryURL = DefaultRegistryURL
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, registryURL, nil)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%s: registry returned %s", op, resp.Status)
	}
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	var doc registryDocument
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	store := NewStaticStore()
	var errs error
	for _, entry := range doc.IDPs {
		if entry.MetadataURL == "" {
			errs = multierror.Append(errs, fmt.Errorf("%s: %q lists no metadata URL: %w", op, entry.EntityID, ErrInvalidParameter))
			continue
		}
		idp, err := FetchIdentityProviderMetadata(ctx, client, entry.MetadataURL)
		if err != nil {
			errs = multierror.Append(errs, err)
			continue
		}
		if err := store.Add(idp); err != nil {
			errs = multierror.Append(errs, err)
		}
	}
	return store, errs
}

// FetchIdentityProviderMetadata downloads and parses one IdP metadata
// document. client may be nil, in which case http.DefaultClient is used.
func FetchIdentityProviderMetadata(ctx context.Context, client *http.Client, metadataURL string) (*metadata.EntityDescriptorIDPSSO, error) {
	const op = "spidsaml.FetchIdentityProviderMetadata"

	if client == nil {
		client = http.DefaultClient
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, metadataURL, nil)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%s: %q returned %s", op, metadataURL, resp.Status)
	}
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return ParseIdentityProviderMetadata(raw)
}
