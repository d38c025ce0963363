package czds

import (
	"os"

	"dropwatch-go/internal/config"
	"dropwatch-go/internal/core"
)

// NewClientFromConfig builds a CZDSClient from cfg. When localDir is
// non-empty it returns a LocalCZDSClient (used by the replay command and
// tests) instead of making live HTTP calls, as a local-file
// fallback mode. encryptor/decrypt may be nil, in which case the session
// cache is skipped and every run re-authenticates.
func NewClientFromConfig(cfg config.CZDSConfig, localDir string, encryptor core.Encryptor, decrypt core.DecryptionContext) core.CZDSClient {
	if localDir != "" {
		return NewLocalClient(localDir)
	}
	return New(cfg, Options{
		Username:  os.Getenv(cfg.UsernameEnv),
		Password:  os.Getenv(cfg.PasswordEnv),
		Encryptor: encryptor,
		Decrypt:   decrypt,
	})
}
