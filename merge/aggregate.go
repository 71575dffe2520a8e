package merge

import "fmt"

// aggregate 读取每个分片的部分聚合行并按列合并为一行
func aggregate(cursors []Cursor, aggs []Aggregate) (Cursor, error) {
	defer closeAll(cursors)

	columns := cursors[0].Columns()
	type plan struct {
		Aggregate
		index  int
		weight int
	}
	plans := make([]plan, 0, len(aggs))
	for _, a := range aggs {
		idx, ok := columnIndex(columns, a.Column)
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnknownColumn, a.Column)
		}
		p := plan{Aggregate: a, index: idx, weight: -1}
		if a.Func == Avg && a.Weight != "" {
			if p.weight, ok = columnIndex(columns, a.Weight); !ok {
				return nil, fmt.Errorf("%w: %s", ErrUnknownColumn, a.Weight)
			}
		}
		plans = append(plans, p)
	}

	var partials [][]any
	for _, c := range cursors {
		if len(c.Columns()) != len(columns) {
			return nil, fmt.Errorf("%w: %d != %d", ErrColumnMismatch, len(c.Columns()), len(columns))
		}
		rows, err := Drain(c)
		if err != nil {
			return nil, err
		}
		partials = append(partials, rows...)
	}
	if len(partials) == 0 {
		return NewSliceCursor(columns, nil), nil
	}

	out := make([]any, len(columns))
	for i := range columns {
		for _, row := range partials {
			if row[i] != nil {
				out[i] = row[i]
				break
			}
		}
	}
	for _, p := range plans {
		v, err := combine(partials, p.Func, p.index, p.weight)
		if err != nil {
			return nil, fmt.Errorf("%s(%s): %w", p.Func, p.Column, err)
		}
		out[p.index] = v
	}
	return NewSliceCursor(columns, [][]any{out}), nil
}

func combine(rows [][]any, fn AggregateFunc, index, weight int) (any, error) {
	switch fn {
	case Min, Max:
		var best any
		for _, row := range rows {
			v := row[index]
			if v == nil {
				continue
			}
			cmp := Compare(v, best)
			if best == nil || (fn == Min && cmp < 0) || (fn == Max && cmp > 0) {
				best = v
			}
		}
		return best, nil

	case Sum, Count:
		var (
			total number
			seen  bool
		)
		for _, row := range rows {
			if row[index] == nil {
				continue
			}
			n, ok := parseNumber(row[index])
			if !ok {
				return nil, fmt.Errorf("%w: %v", ErrNotNumeric, row[index])
			}
			total = total.add(n)
			seen = true
		}
		if !seen {
			if fn == Count {
				return int64(0), nil
			}
			return nil, nil
		}
		return total.value(), nil

	case Avg:
		var sum, weights float64
		for _, row := range rows {
			if row[index] == nil {
				continue
			}
			n, ok := parseNumber(row[index])
			if !ok {
				return nil, fmt.Errorf("%w: %v", ErrNotNumeric, row[index])
			}
			w := 1.0
			if weight >= 0 {
				wn, ok := parseNumber(row[weight])
				if !ok {
					continue
				}
				w = wn.float()
			}
			sum += n.float() * w
			weights += w
		}
		if weights == 0 {
			return nil, nil
		}
		return sum / weights, nil

	default:
		return rows[0][index], nil
	}
}

// sumScalars 合并原生 COUNT 查询：每个分片返回一个标量，结果为总和
func sumScalars(cursors []Cursor) (Cursor, error) {
	defer closeAll(cursors)

	columns := cursors[0].Columns()
	var total number
	for _, c := range cursors {
		rows, err := Drain(c)
		if err != nil {
			return nil, err
		}
		for _, row := range rows {
			if len(row) == 0 || row[0] == nil {
				continue
			}
			n, ok := parseNumber(row[0])
			if !ok {
				return nil, fmt.Errorf("%w: %v", ErrNotNumeric, row[0])
			}
			total = total.add(n)
		}
	}
	return NewSliceCursor(columns, [][]any{{total.value()}}), nil
}
