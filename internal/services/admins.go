package services

// AdminSet is the static set of Telegram ids allowed to resolve and cancel deals.
type AdminSet map[int64]struct{}

func NewAdminSet(ids ...int64) AdminSet {
	set := make(AdminSet, len(ids))
	for _, id := range ids {
		if id > 0 {
			set[id] = struct{}{}
		}
	}
	return set
}

func (a AdminSet) Contains(telegramID int64) bool {
	_, ok := a[telegramID]
	return ok
}
