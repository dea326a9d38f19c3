package bus

// TenantKey identifies one deployed service instance for one persistence scope.
// The two parts are always used together; the zero value is not a valid tenant.
type TenantKey struct {
	ServiceName        string `json:"serviceName"`
	PersistenceContext string `json:"persistenceContext"`
}

// Tenant builds a TenantKey.
func Tenant(serviceName, persistenceContext string) TenantKey {
	return TenantKey{ServiceName: serviceName, PersistenceContext: persistenceContext}
}

// IsZero reports whether neither part is set.
func (k TenantKey) IsZero() bool { return k.ServiceName == "" && k.PersistenceContext == "" }

func (k TenantKey) String() string { return k.ServiceName + ":" + k.PersistenceContext }
