package database

const (
	scheduleTable         = "dispatch_schedule"
	ruleTable             = "dispatch_rule"
	templateTable         = "message_template"
	jobTable              = "dispatch_job"
	logTable              = "dispatch_log"
	settingsTable         = "integration_settings"
	memberTable           = "user_account"
	eventTable            = "event"
	registrationTable     = "event_registration"
	ministryTable         = "ministry"
	ministryMemberTable   = "ministry_member"
	ministryScheduleTable = "ministry_schedule"
	churchTable           = "church_info"
	materialLinkTable     = "support_material_link"
	materialModuleTable   = "support_material_module"
)
