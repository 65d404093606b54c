package camera

// ProbeBackend は探索時に最初に試すバックエンドを返す
func ProbeBackend(os OS) Backend {
	switch os {
	case OSMac:
		return BackendAVFoundation
	case OSWindows:
		return BackendDirectShow
	default:
		return BackendDefault
	}
}

// BackendPriority はカメラを開くときに試すバックエンドを優先順に返す
func BackendPriority(os OS) []Backend {
	switch os {
	case OSMac:
		return []Backend{BackendAVFoundation, BackendAny}
	case OSWindows:
		return []Backend{BackendDirectShow, BackendMSMF, BackendAny}
	default:
		return []Backend{BackendV4L2, BackendAny}
	}
}
