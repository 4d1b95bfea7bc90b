package models

// Entity table names that take part in synchronization
const (
	EntityProperties          = "properties"
	EntityUnits               = "units"
	EntityRenters             = "renters"
	EntityLeases              = "leases"
	EntityPayments            = "payments"
	EntityInvoices            = "invoices"
	EntityExpenses            = "expenses"
	EntityMaintenanceRequests = "maintenance_requests"
	EntityVendors             = "vendors"
	EntityContacts            = "contacts"
	EntityInspections         = "inspections"
	EntityDocuments           = "documents"
	EntityNotes               = "notes"
	EntityReminders           = "reminders"
	EntityDeposits            = "deposits"
	EntityRentSchedules       = "rent_schedules"
	EntityUtilityReadings     = "utility_readings"
	EntityInsurancePolicies   = "insurance_policies"
	EntitySettings            = "settings"
)

// SyncableEntities lists every table in the order it is migrated and returned by a full pull
var SyncableEntities = []string{
	EntityProperties,
	EntityUnits,
	EntityRenters,
	EntityLeases,
	EntityPayments,
	EntityInvoices,
	EntityExpenses,
	EntityMaintenanceRequests,
	EntityVendors,
	EntityContacts,
	EntityInspections,
	EntityDocuments,
	EntityNotes,
	EntityReminders,
	EntityDeposits,
	EntityRentSchedules,
	EntityUtilityReadings,
	EntityInsurancePolicies,
	EntitySettings,
}

var syncableSet = func() map[string]struct{} {
	set := make(map[string]struct{}, len(SyncableEntities))
	for _, name := range SyncableEntities {
		set[name] = struct{}{}
	}
	return set
}()

// IsSyncableEntity reports whether name is a known entity table
func IsSyncableEntity(name string) bool {
	_, ok := syncableSet[name]
	return ok
}
