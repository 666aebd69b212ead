package capability

// Default returns the built-in capability table, used when no table file is
// configured. Held and Completed are deliberately absent from Standard so
// they take the incremental-patch path in Derive.
func Default() *Table {
	return &Table{families: map[string]map[string][]string{
		FamilyStandard: {
			"Dialing": {
				"release",
				"attach-user-data", "update-user-data", "delete-user-data-pair",
				"send-dtmf",
			},
			"Ringing": {
				"answer", "release",
				"attach-user-data", "update-user-data", "delete-user-data-pair",
			},
			"Established": {
				"hold", "release",
				"initiate-transfer", "single-step-transfer", "single-step-conference",
				"attach-user-data", "update-user-data", "delete-user-data-pair",
				"send-dtmf", "start-recording", "set-comment",
			},
			"Released": {
				"complete",
				"attach-user-data", "update-user-data", "delete-user-data-pair",
			},
		},
		FamilyConsultOrigin: {
			"Established": {
				"hold", "release",
				"complete-transfer", "complete-conference",
				"attach-user-data", "update-user-data", "delete-user-data-pair",
				"send-dtmf", "start-recording",
			},
			"Released": {
				"complete", "retrieve-parent",
			},
		},
	}}
}
