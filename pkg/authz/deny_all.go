package authz

import "gorm.io/gorm"

// DenyAll denies every check and every query. Useful as a safe default for
// models that must only be reached through dedicated code paths.
type DenyAll struct {
	Base
}

// Check always returns false.
func (p *DenyAll) Check(_ any, _ []string, _ string) (bool, error) {
	return false, nil
}

// Filter denies flatly: no query is executed.
func (p *DenyAll) Filter(_ string, _ *gorm.DB, _ []string, _ string) (*gorm.DB, bool, error) {
	return nil, false, nil
}

// Clone implements Policy.
func (p *DenyAll) Clone() Policy { return &DenyAll{} }
