package policy

import (
	"github.com/guillermoBallester/sqlguard/internal/core/domain"
)

// Policy is the on-disk guard configuration. Pointer fields distinguish
// "not set" from zero values so documented defaults apply.
//
//	dialect: mysql
//	defaultLimit: 200
//	failThrowException: false
//	addLimit: true
//	tableConfigs:
//	  - tableName: u_base
//	    featureFields: [id, uid]
type Policy struct {
	Dialect            string        `yaml:"dialect,omitempty"`
	DefaultLimit       *int          `yaml:"defaultLimit,omitempty"`
	FailThrowException *bool         `yaml:"failThrowException,omitempty"`
	AddLimit           *bool         `yaml:"addLimit,omitempty"`
	TableConfigs       []TableConfig `yaml:"tableConfigs"`
}

// TableConfig registers a table and the columns selective enough to make an
// unbounded scan acceptable.
type TableConfig struct {
	TableName     string   `yaml:"tableName"`
	FeatureFields []string `yaml:"featureFields"`
}

// GuardConfig converts the policy into the guard's immutable runtime form,
// applying defaults for unset fields.
func (p *Policy) GuardConfig() *domain.GuardConfig {
	limit := domain.DefaultLimit
	if p.DefaultLimit != nil {
		limit = *p.DefaultLimit
	}
	addLimit := true
	if p.AddLimit != nil {
		addLimit = *p.AddLimit
	}
	failThrow := false
	if p.FailThrowException != nil {
		failThrow = *p.FailThrowException
	}

	tables := make(map[string][]string, len(p.TableConfigs))
	for _, tc := range p.TableConfigs {
		tables[tc.TableName] = tc.FeatureFields
	}

	return domain.NewGuardConfig(tables, limit, addLimit, failThrow, p.dialect())
}

func (p *Policy) dialect() domain.Dialect {
	if p.Dialect == "" {
		return domain.DialectMySQL
	}
	return domain.Dialect(p.Dialect)
}
