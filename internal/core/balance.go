package core

// Balance is the income/outcome/total summary over a set of transactions.
type Balance struct {
	Income  Money
	Outcome Money
	Total   Money
}

// ComputeBalance folds over ts. Unknown transaction types are ignored.
func ComputeBalance(ts []Transaction) Balance {
	var b Balance
	for _, t := range ts {
		switch t.Type {
		case Income:
			b.Income = b.Income.Add(t.Value)
			b.Total = b.Total.Add(t.Value)
		case Outcome:
			b.Outcome = b.Outcome.Add(t.Value)
			b.Total = b.Total.Sub(t.Value)
		}
	}
	return b
}

// CanWithdraw reports whether an outcome of v keeps the total non-negative.
func (b Balance) CanWithdraw(v Money) bool {
	return !b.Total.Less(v)
}

// Apply returns the balance after t is recorded.
func (b Balance) Apply(t Transaction) Balance {
	return ComputeBalance([]Transaction{t}).merge(b)
}

func (b Balance) merge(o Balance) Balance {
	return Balance{
		Income:  b.Income.Add(o.Income),
		Outcome: b.Outcome.Add(o.Outcome),
		Total:   b.Total.Add(o.Total),
	}
}
