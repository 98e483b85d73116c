// Package model holds the gorm models persisted by keyforge.
package model

// All returns every model in migration order.
func All() []interface{} {
	return []interface{}{
		&Instance{},
		&Organisation{},
		&Password{},
		&DeploymentEvent{},
		&DeploymentLog{},
		&KeyPair{},
		&RevokedToken{},
		&AuditLog{},
	}
}
