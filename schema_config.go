package main

import (
	"fmt"
	"math/big"
	"os"
	"path/filepath"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/ghks18g/eip712/pkg/eip712"
	"github.com/ghks18g/eip712/pkg/relay"
)

const schemaFileName = "schema.yaml"

var schemaValidate = validator.New()

// SchemaConfig is the typed data the relay accepts: auxiliary struct types,
// request types and the domains requests may be signed for.
type SchemaConfig struct {
	Types        []TypeConfig   `yaml:"types" validate:"dive"`
	RequestTypes []TypeConfig   `yaml:"request_types" validate:"required,min=1,dive"`
	Domains      []DomainConfig `yaml:"domains" validate:"required,min=1,dive"`
}

// TypeConfig is one struct type definition. Field order is significant.
type TypeConfig struct {
	Name   string            `yaml:"name" validate:"required"`
	Fields []eip712.Property `yaml:"fields" validate:"required,min=1,dive"`
}

// DomainConfig is one signing domain. Omitted fields are absent from the
// domain. ChainID is a decimal or 0x-prefixed string so that values above
// 2^64 survive YAML decoding.
type DomainConfig struct {
	ID                string  `yaml:"id" validate:"required,max=64"`
	Name              *string `yaml:"name"`
	Version           *string `yaml:"version"`
	ChainID           *string `yaml:"chain_id"`
	VerifyingContract *string `yaml:"verifying_contract" validate:"omitempty,eth_addr"`
	Salt              *string `yaml:"salt" validate:"omitempty,hexadecimal,len=66"`
}

// LoadSchema reads and validates <configDirPath>/schema.yaml.
func LoadSchema(configDirPath string) (SchemaConfig, error) {
	f, err := os.Open(filepath.Join(configDirPath, schemaFileName))
	if err != nil {
		return SchemaConfig{}, err
	}
	defer f.Close()

	var cfg SchemaConfig
	if err := yaml.NewDecoder(f).Decode(&cfg); err != nil {
		return SchemaConfig{}, err
	}
	if err := schemaValidate.Struct(cfg); err != nil {
		return SchemaConfig{}, err
	}
	return cfg, nil
}

// Domain converts the configured fields into a signing domain.
func (c DomainConfig) Domain() (eip712.Domain, error) {
	d := eip712.Domain{Name: c.Name, Version: c.Version}

	if c.ChainID != nil {
		chainID, ok := math.ParseBig256(*c.ChainID)
		if !ok || chainID.Sign() < 0 {
			return eip712.Domain{}, fmt.Errorf("domain %s: invalid chain_id %q", c.ID, *c.ChainID)
		}
		d.ChainID = (*math.HexOrDecimal256)(new(big.Int).Set(chainID))
	}
	if c.VerifyingContract != nil {
		addr := common.HexToAddress(*c.VerifyingContract)
		d.VerifyingContract = &addr
	}
	if c.Salt != nil {
		raw, err := hexutil.Decode(*c.Salt)
		if err != nil || len(raw) != common.HashLength {
			return eip712.Domain{}, fmt.Errorf("domain %s: salt must be 32 bytes", c.ID)
		}
		salt := common.BytesToHash(raw)
		d.Salt = &salt
	}
	return d, nil
}

// Apply registers the schema with v. Auxiliary types go first so request
// types can be checked against a complete registry.
func (c SchemaConfig) Apply(v *relay.Validator) error {
	for _, t := range c.Types {
		if err := v.RegisterType(t.Name, t.Fields); err != nil {
			return fmt.Errorf("type %s: %w", t.Name, err)
		}
	}
	for _, t := range c.RequestTypes {
		if err := v.RegisterRequestType(t.Name, t.Fields); err != nil {
			return fmt.Errorf("request type %s: %w", t.Name, err)
		}
	}
	for _, dc := range c.Domains {
		domain, err := dc.Domain()
		if err != nil {
			return err
		}
		if err := v.RegisterDomain(dc.ID, domain); err != nil {
			return fmt.Errorf("domain %s: %w", dc.ID, err)
		}
	}
	return nil
}
