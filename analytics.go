package main

// CategoryStat aggregates rows sharing a category.
type CategoryStat struct {
	Count int
	Total float64
}

// Summary is derived from a FileProgress snapshot.
type Summary struct {
	PerCategory   map[string]CategoryStat
	Uncategorized int
	TotalRows     int
}

// summarize folds a snapshot into per-category counts and totals. Pure
// function, recomputed on each call; there is no cached state to invalidate.
func summarize(fp *FileProgress) Summary {
	s := Summary{
		PerCategory: make(map[string]CategoryStat),
		TotalRows:   len(fp.Rows),
	}
	for _, row := range fp.Rows {
		if row.Category == "" {
			s.Uncategorized++
			continue
		}
		stat := s.PerCategory[row.Category]
		stat.Count++
		stat.Total += row.Amount
		s.PerCategory[row.Category] = stat
	}
	return s
}
