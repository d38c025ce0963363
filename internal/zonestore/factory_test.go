package zonestore

import (
	"testing"

	"dropwatch-go/internal/config"
)

func TestNewZoneStoreFromConfig(t *testing.T) {
	tests := []struct {
		name    string
		cfg     config.ZoneStoreConfig
		wantErr bool
		wantNil bool
	}{
		{
			name:    "memory store",
			cfg:     config.ZoneStoreConfig{Type: "memory"},
			wantErr: false,
			wantNil: false,
		},
		{
			name:    "s3 store missing bucket",
			cfg:     config.ZoneStoreConfig{Type: "s3"},
			wantErr: true,
			wantNil: true,
		},
		{
			name:    "filesystem store missing root",
			cfg:     config.ZoneStoreConfig{Type: "filesystem"},
			wantErr: true,
			wantNil: true,
		},
		{
			name: "unknown type",
			cfg:  config.ZoneStoreConfig{Type: "unknown"},

			wantErr: true,
			wantNil: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NewZoneStoreFromConfig(tt.cfg)

			if (err != nil) != tt.wantErr {
				t.Errorf("NewZoneStoreFromConfig() error = %v, wantErr %v", err, tt.wantErr)
				return
			}
			if (got == nil) != tt.wantNil {
				t.Errorf("NewZoneStoreFromConfig() returned nil = %v, wantNil %v", got == nil, tt.wantNil)
			}
		})
	}

	t.Run("filesystem store with root", func(t *testing.T) {
		got, err := NewZoneStoreFromConfig(config.ZoneStoreConfig{Type: "filesystem", FSRoot: t.TempDir()})
		if err != nil {
			t.Fatalf("NewZoneStoreFromConfig() error = %v", err)
		}
		fsStore, ok := got.(*FilesystemZoneStore)
		if !ok {
			t.Fatalf("got %T, want *FilesystemZoneStore", got)
		}
		if err := fsStore.ValidateSetup(); err != nil {
			t.Errorf("ValidateSetup() error = %v", err)
		}
	})
}
