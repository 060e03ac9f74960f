package workqueue

// ArchiveCandidates matches rows of kind that are ready to upload.
func ArchiveCandidates(kind Kind) Conditions {
	return Conditions{
		ColKind:       kind,
		ColProgress:   ProgressDone,
		ColCanArchive: true,
		ColIsArchived: StateNone,
	}
}

// CheckCandidates matches rows of kind that were uploaded but not yet verified.
func CheckCandidates(kind Kind) Conditions {
	return Conditions{
		ColKind:       kind,
		ColIsArchived: StateDone,
		ColIsChecked:  StateNone,
	}
}
