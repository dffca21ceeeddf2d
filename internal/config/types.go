package config

import "strings"

// DefaultContractStep is used for symbols without a contract spec.
const DefaultContractStep = 50

// ContractSpec describes an index contract.
type ContractSpec struct {
	ContractSize int `mapstructure:"contract_size" yaml:"contract_size"`
	Step         int `mapstructure:"step" yaml:"step"`
}

// DefaultContracts lists the supported index contracts.
var DefaultContracts = map[string]ContractSpec{
	"NIFTY":     {ContractSize: 75, Step: 50},
	"BANKNIFTY": {ContractSize: 30, Step: 100},
}

// Contract returns the spec for symbol and whether it was configured.
// Unknown symbols fall back to DefaultContractStep and the session contract size.
func (c *Config) Contract(symbol string) (ContractSpec, bool) {
	if spec, ok := c.Contracts[strings.ToUpper(symbol)]; ok {
		return spec, true
	}
	return ContractSpec{ContractSize: c.Session.ContractSize, Step: DefaultContractStep}, false
}

func defaultContractsSetting() map[string]any {
	out := make(map[string]any, len(DefaultContracts))
	for symbol, spec := range DefaultContracts {
		out[symbol] = map[string]any{
			"contract_size": spec.ContractSize,
			"step":          spec.Step,
		}
	}
	return out
}

// viper lowercases map keys; symbols are uppercase everywhere else.
func normalizeContracts(in map[string]ContractSpec) map[string]ContractSpec {
	out := make(map[string]ContractSpec, len(in))
	for symbol, spec := range in {
		out[strings.ToUpper(symbol)] = spec
	}
	return out
}
