// Package tissconfig holds the provider's TISS configuration: the identity
// stamped on outgoing batches and the validation/notification toggles
// consumed by claim processing. The configuration is a single row.
package tissconfig

import "time"

// Config maps to the tiss_config table.
type Config struct {
	RazaoSocial        string    `db:"razao_social" json:"razao_social" validate:"required,min=2,max=120"`
	CNPJ               string    `db:"cnpj" json:"cnpj" validate:"required,len=14,numeric"`
	CNES               string    `db:"cnes" json:"cnes" validate:"required,min=7,max=7"`
	ProviderCode       string    `db:"provider_code" json:"provider_code" validate:"required,max=20"`
	TISSVersion        string    `db:"tiss_version" json:"tiss_version" validate:"required"`
	ValidateOnFinalize bool      `db:"validate_on_finalize" json:"validate_on_finalize"`
	NotifyOnReturn     bool      `db:"notify_on_return" json:"notify_on_return"`
	UpdatedAt          time.Time `db:"updated_at" json:"updated_at"`
}

// Default is the configuration used before the provider saves one.
func Default() *Config {
	return &Config{
		TISSVersion:        "4.01.00",
		ValidateOnFinalize: true,
		NotifyOnReturn:     true,
	}
}
