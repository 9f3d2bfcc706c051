// Package clinical defines the shared value sets for clinical data access:
// the resource types a consent may scope, the actions an actor may attempt,
// and the kinds of actors that appear in the audit trail.
package clinical

// ResourceType identifies a class of patient clinical data.
type ResourceType string

const (
	ResourceDemographics   ResourceType = "demographics"
	ResourceMedicalHistory ResourceType = "medical_history"
	ResourceMedications    ResourceType = "medications"
	ResourceLabResults     ResourceType = "lab_results"
	ResourceRadiology      ResourceType = "radiology"
	ResourceClinicalNotes  ResourceType = "clinical_notes"
	ResourceImmunizations  ResourceType = "immunizations"
	ResourceVitalSigns     ResourceType = "vital_signs"
	ResourceFullRecord     ResourceType = "full_record"
)

// Valid reports whether the resource type is a known value.
func (r ResourceType) Valid() bool {
	switch r {
	case ResourceDemographics, ResourceMedicalHistory, ResourceMedications,
		ResourceLabResults, ResourceRadiology, ResourceClinicalNotes,
		ResourceImmunizations, ResourceVitalSigns, ResourceFullRecord:
		return true
	}
	return false
}

// ActionType identifies the operation attempted on a resource.
type ActionType string

const (
	ActionView            ActionType = "view"
	ActionCreate          ActionType = "create"
	ActionUpdate          ActionType = "update"
	ActionDelete          ActionType = "delete"
	ActionExport          ActionType = "export"
	ActionPrint           ActionType = "print"
	ActionShare           ActionType = "share"
	ActionEmergencyAccess ActionType = "emergency_access"
)

// Valid reports whether the action type is a known value.
func (a ActionType) Valid() bool {
	switch a {
	case ActionView, ActionCreate, ActionUpdate, ActionDelete,
		ActionExport, ActionPrint, ActionShare, ActionEmergencyAccess:
		return true
	}
	return false
}

// IsWrite reports whether the action modifies data. Write actions require
// a consent access level above read-only.
func (a ActionType) IsWrite() bool {
	return a == ActionUpdate || a == ActionDelete
}

// ActorKind identifies who is attempting an access.
type ActorKind string

const (
	ActorProvider ActorKind = "provider"
	ActorPatient  ActorKind = "patient"
	ActorAdmin    ActorKind = "admin"
)

// Valid reports whether the actor kind is a known value.
func (k ActorKind) Valid() bool {
	switch k {
	case ActorProvider, ActorPatient, ActorAdmin:
		return true
	}
	return false
}

// CapabilityEmergencyOverride is the actor capability required to use the
// emergency access path. Capability sets are resolved by the caller's
// authorization layer and passed through on each access request.
const CapabilityEmergencyOverride = "emergency_override"
