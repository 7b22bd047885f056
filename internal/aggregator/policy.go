package aggregator

import (
	"signal_bot/internal/models"
)

// Decision — итог сведения голосов: направление и голоса, которые его дали.
type Decision struct {
	Side         models.Side
	Strength     float64
	Contributors []models.Vote // в порядке входа, от младшего таймфрейма к старшему
}

// Resolve сводит голоса по политике. ok=false — алерта на этом тике нет.
// Голоса ожидаются от младшего таймфрейма к старшему.
func Resolve(votes []models.Vote, policy models.Policy, trendTF string) (Decision, bool) {
	if len(votes) == 0 {
		return Decision{}, false
	}
	switch policy {
	case models.PolicyUnanimous:
		return unanimous(votes)
	case models.PolicyWeightedMajority:
		return weightedMajority(votes)
	case models.PolicyHierarchical:
		return hierarchical(votes, trendTF)
	}
	return Decision{}, false
}

// unanimous: все голоса в одну сторону, ни одного HOLD.
func unanimous(votes []models.Vote) (Decision, bool) {
	side := votes[0].Side
	if side == models.SideHold {
		return Decision{}, false
	}
	var sum float64
	for _, v := range votes {
		if v.Side != side {
			return Decision{}, false
		}
		sum += v.Strength
	}
	return Decision{
		Side:         side,
		Strength:     sum / float64(len(votes)),
		Contributors: append([]models.Vote(nil), votes...),
	}, true
}

// weightedMajority: побеждает сторона со строго большей суммой сил.
// Ничья (в том числе 0:0) — нет сигнала.
func weightedMajority(votes []models.Vote) (Decision, bool) {
	var buy, sell float64
	for _, v := range votes {
		switch v.Side {
		case models.SideBuy:
			buy += v.Strength
		case models.SideSell:
			sell += v.Strength
		}
	}

	var (
		side  models.Side
		total float64
	)
	switch {
	case buy > sell:
		side, total = models.SideBuy, buy
	case sell > buy:
		side, total = models.SideSell, sell
	default:
		return Decision{}, false
	}

	contributors := make([]models.Vote, 0, len(votes))
	for _, v := range votes {
		if v.Side == side {
			contributors = append(contributors, v)
		}
	}
	return Decision{Side: side, Strength: total, Contributors: contributors}, true
}

// hierarchical: трендовый таймфрейм задаёт направление, нужен хотя бы один
// входной таймфрейм с тем же направлением.
func hierarchical(votes []models.Vote, trendTF string) (Decision, bool) {
	trendIdx := len(votes) - 1
	if trendTF != "" {
		trendIdx = -1
		for i, v := range votes {
			if v.Timeframe == trendTF {
				trendIdx = i
				break
			}
		}
		if trendIdx < 0 {
			return Decision{}, false
		}
	}

	trend := votes[trendIdx]
	if trend.Side == models.SideHold {
		return Decision{}, false
	}

	var (
		contributors []models.Vote
		agreeing     int
		sum          float64
	)
	for i, v := range votes {
		switch {
		case i == trendIdx:
		case v.Side == trend.Side:
			agreeing++
		default:
			continue
		}
		contributors = append(contributors, v)
		sum += v.Strength
	}
	if agreeing == 0 {
		return Decision{}, false
	}
	return Decision{
		Side:         trend.Side,
		Strength:     sum / float64(len(contributors)),
		Contributors: contributors,
	}, true
}
