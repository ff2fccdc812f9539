package vault

import (
	"fmt"

	"fop-go/internal/config"
	"fop-go/internal/encryption"
	"fop-go/internal/fop"
)

// NewVaultFromConfig creates the vault backend from the configuration. It
// returns nil when no vault root is configured.
func NewVaultFromConfig(cfg *config.Config, unlock Unlocker, storage fop.StorageResolver) (*Vault, error) {
	if cfg.Vault.Root == "" {
		return nil, nil
	}
	enc, err := encryption.NewEncryptorFromConfig(cfg.Encryption)
	if err != nil {
		return nil, fmt.Errorf("vault encryption: %w", err)
	}
	return New(cfg.Vault.Root, enc, unlock, storage)
}
