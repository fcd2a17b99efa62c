package api

type statusReq struct{}

type historyReq struct{}

type clientsReq struct {
	offset uint64
	limit  uint64
}

type checkpointReq struct {
	round uint64
}

func (r checkpointReq) validate() error {
	if r.round == 0 {
		return errZeroRound
	}

	return nil
}
