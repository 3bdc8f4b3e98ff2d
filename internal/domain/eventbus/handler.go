package eventbus

// OnRoundCompleted 订阅轮次结束事件
func OnRoundCompleted(sub Subscriber, fn func(RoundSummary)) error {
	return sub.Subscribe(TopicRoundCompleted, fn)
}

// OnEvaluationPersisted 订阅记录落盘事件
func OnEvaluationPersisted(sub Subscriber, fn func(EvaluationPersisted)) error {
	return sub.Subscribe(TopicEvaluationPersisted, fn)
}
