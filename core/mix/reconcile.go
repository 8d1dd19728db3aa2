package mix

import (
	"math"
	"time"

	"UltimateDJ/logger"
)

// DefaultDriftTolerance 跟随输出位置误差超过此值时重新同步
const DefaultDriftTolerance = 0.1

// Output 绑定到曲目逻辑位置的播放输出
type Output interface {
	Position() float64
	Seek(t float64) error
	Rate() float64
	SetRate(r float64)
	Playing() bool
	Play() error
	Pause()
}

// Reconciler 让跟随输出与主输出保持对齐
type Reconciler struct {
	Primary   Output
	Followers []Output
	Tolerance float64
}

// NewReconciler 使用默认漂移容差
func NewReconciler(primary Output, followers ...Output) *Reconciler {
	return &Reconciler{Primary: primary, Followers: followers, Tolerance: DefaultDriftTolerance}
}

// Step 执行一次对齐，返回重新定位的跟随输出数量
func (r *Reconciler) Step() (resynced int, err error) {
	if r.Primary == nil {
		return 0, nil
	}
	pos := r.Primary.Position()
	rate := r.Primary.Rate()
	playing := r.Primary.Playing()
	tol := r.Tolerance
	if tol <= 0 {
		tol = DefaultDriftTolerance
	}

	for _, f := range r.Followers {
		if f == nil {
			continue
		}
		if math.Abs(f.Position()-pos) > tol {
			if serr := f.Seek(pos); serr != nil {
				logger.Debug("Follower resync failed", logger.ErrorField(serr))
			} else {
				resynced++
			}
		}
		if f.Rate() != rate {
			f.SetRate(rate)
		}
		switch {
		case playing && !f.Playing():
			if perr := f.Play(); perr != nil && err == nil {
				err = perr
			}
		case !playing && f.Playing():
			f.Pause()
		}
	}
	return resynced, err
}

// Interval 把毫秒周期换算为时长，默认 250ms
func Interval(ms int) time.Duration {
	if ms <= 0 {
		return 250 * time.Millisecond
	}
	return time.Duration(ms) * time.Millisecond
}
