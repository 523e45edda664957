package logging

import "github.com/sirupsen/logrus"

// BaseFields 构建 action + 配置路径等基础字段，便于不同入口复用。
func BaseFields(action, configPath string) logrus.Fields {
	return logrus.Fields{
		"action":     action,
		"configPath": configPath,
	}
}

// RequestFields 提供 origin/domain/策略/命中状态字段，供代理请求日志复用。
func RequestFields(origin, domain, strategy, source string, cacheHit bool) logrus.Fields {
	return logrus.Fields{
		"origin":    origin,
		"domain":    domain,
		"strategy":  strategy,
		"source":    source,
		"cache_hit": cacheHit,
	}
}

// EventFields 用于生命周期与后台事件日志。
func EventFields(kind, tag string) logrus.Fields {
	fields := logrus.Fields{
		"action": "event",
		"kind":   kind,
	}
	if tag != "" {
		fields["tag"] = tag
	}
	return fields
}
