package enums

import "fmt"

// ErpSyncAction is the operation requested against the remote ERP.
type ErpSyncAction string

const (
	ErpSyncActionUpsert ErpSyncAction = "upsert"
	ErpSyncActionDelete ErpSyncAction = "delete"
)

var validErpSyncActions = []ErpSyncAction{
	ErpSyncActionUpsert,
	ErpSyncActionDelete,
}

// IsValid reports whether the value is a known ErpSyncAction.
func (a ErpSyncAction) IsValid() bool {
	for _, candidate := range validErpSyncActions {
		if candidate == a {
			return true
		}
	}
	return false
}

// ParseErpSyncAction converts raw input into an ErpSyncAction.
func ParseErpSyncAction(value string) (ErpSyncAction, error) {
	for _, candidate := range validErpSyncActions {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid erp sync action %q", value)
}

// ErpObjectType is the kind of business object mirrored into the ERP.
type ErpObjectType string

const (
	ErpObjectOrder    ErpObjectType = "order"
	ErpObjectCustomer ErpObjectType = "customer"
	ErpObjectProduct  ErpObjectType = "product"
	ErpObjectStore    ErpObjectType = "store"
)

var validErpObjectTypes = []ErpObjectType{
	ErpObjectOrder,
	ErpObjectCustomer,
	ErpObjectProduct,
	ErpObjectStore,
}

// IsValid reports whether the value is a known ErpObjectType.
func (o ErpObjectType) IsValid() bool {
	for _, candidate := range validErpObjectTypes {
		if candidate == o {
			return true
		}
	}
	return false
}

// ParseErpObjectType converts raw input into an ErpObjectType.
func ParseErpObjectType(value string) (ErpObjectType, error) {
	for _, candidate := range validErpObjectTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid erp object type %q", value)
}
