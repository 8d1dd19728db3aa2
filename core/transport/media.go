package transport

// MediaEventKind Media 回调的类型
type MediaEventKind int

const (
	MediaTimeUpdate MediaEventKind = iota
	MediaEnded
	MediaError
)

// MediaEvent 由 Media 在自己的协程中发出
type MediaEvent struct {
	Kind MediaEventKind
	Time float64
	Err  error
}

// Media 同一时间绑定一个源的播放元素
type Media interface {
	// Open 开始加载 src，元数据就绪后调用 done
	Open(src string, done func(duration float64, err error))
	// Unload 释放当前源
	Unload()
	Play() error
	Pause()
	Seek(t float64) error
	Position() float64
	SetVolume(v float64)
	SetRate(r float64)
	// SetHandler 注册时间、结束与错误事件的接收者
	SetHandler(fn func(MediaEvent))
}
