package strategy

import (
	"fmt"

	"signal_bot/internal/models"
)

// Evaluate — голос одного таймфрейма на тике. Чистая функция: одинаковые
// входы дают одинаковый голос. Голосует первое сработавшее правило.
func Evaluate(tf models.Timeframe, tick models.AlignedTick, cfg Config) (vote models.Vote, err error) {
	defer func() {
		if r := recover(); r != nil {
			vote, err = models.Vote{}, fmt.Errorf("%w: %s: panic: %v", ErrEvaluation, tf.ID, r)
		}
	}()

	tr, ok := cfg.rules(tf.ID)
	if !ok {
		return models.Vote{}, fmt.Errorf("%w: %s: timeframe not configured", ErrEvaluation, tf.ID)
	}

	cur, ok := tick.Current(tf.ID)
	if !ok {
		v := models.Hold(tf.ID, tf.ID+": no closed bar yet")
		v.Absent = true
		return v, nil
	}

	sc := scope{tf: tf.ID, cur: cur}
	if prev, ok := tick.Previous(tf.ID); ok {
		sc.prev = &prev
	} else if tr.needsHistory() {
		return models.Hold(tf.ID, tf.ID+": insufficient history for crossover (need 2 bars)"), nil
	}

	for _, r := range tr.Rules {
		hit, evidence, err := r.When.eval(sc)
		if err != nil {
			return models.Vote{}, err
		}
		if hit {
			return models.Vote{
				Timeframe: tf.ID,
				Side:      r.Side,
				Strength:  r.Strength,
				Evidence:  evidence,
			}, nil
		}
	}
	return models.Hold(tf.ID, tf.ID+": no rule matched"), nil
}

// EvaluateAll — голоса всех таймфреймов стратегии, от младшего к старшему.
func EvaluateAll(tick models.AlignedTick, cfg Config) ([]models.Vote, error) {
	votes := make([]models.Vote, 0, len(cfg.Timeframes))
	for _, tr := range cfg.Timeframes {
		v, err := Evaluate(tr.Timeframe, tick, cfg)
		if err != nil {
			return nil, err
		}
		votes = append(votes, v)
	}
	return votes, nil
}
