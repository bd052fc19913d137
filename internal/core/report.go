package core

type (
	// LabelAmount is an amount aggregated by category or source.
	LabelAmount struct {
		Label  string `json:"label"`
		Amount Money  `json:"amount"`
	}

	// DayAmount is the sum of one kind's entries on a single day.
	DayAmount struct {
		Date   Date  `json:"date"`
		Amount Money `json:"amount"`
	}

	// MonthSeriesPoint is one month of a trailing series.
	MonthSeriesPoint struct {
		Month        Date  `json:"month"`
		TotalIncome  Money `json:"total_income"`
		TotalExpense Money `json:"total_expense"`
		Balance      Money `json:"balance"`
	}

	// Projection estimates month-end spend from the daily series so far.
	Projection struct {
		Month         Date  `json:"month"`
		ElapsedDays   int   `json:"elapsed_days"`
		RemainingDays int   `json:"remaining_days"`
		SpentToDate   Money `json:"spent_to_date"`
		DailyMean     Money `json:"daily_mean"`
		TrimmedDays   int   `json:"trimmed_days"`
		Projected     Money `json:"projected"`
	}

	// OwnerTotals are all-time sums for one owner.
	OwnerTotals struct {
		TotalIncome  Money `json:"total_income"`
		TotalExpense Money `json:"total_expense"`
		Balance      Money `json:"balance"`
	}

	Dashboard struct {
		Bucket          MonthBucket   `json:"bucket"`
		DailyExpenses   []Money       `json:"daily_expenses"`
		DailyIncomes    []Money       `json:"daily_incomes"`
		ExpensesByLabel []LabelAmount `json:"expenses_by_category"`
		IncomesByLabel  []LabelAmount `json:"incomes_by_source"`
		RecentExpenses  []Expense     `json:"recent_expenses"`
		RecentIncomes   []Income      `json:"recent_incomes"`
		Projection      Projection    `json:"projection"`
	}

	Summary struct {
		Months        []MonthSeriesPoint `json:"months"`
		Totals        OwnerTotals        `json:"totals"`
		TopCategories []LabelAmount      `json:"top_categories"`
	}
)
