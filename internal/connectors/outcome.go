package connectors

import "encoding/json"

// Цели внешних вызовов. Используются в метках метрик, атрибутах span и переключателях.
const (
	TargetThirdParty = "third_party"
	TargetCompute    = "compute"
	TargetEnqueue    = "enqueue"
)

// Targets: все известные зависимости.
var Targets = []string{TargetThirdParty, TargetCompute, TargetEnqueue}

// KnownTarget сообщает, есть ли такая зависимость.
func KnownTarget(target string) bool {
	for _, t := range Targets {
		if t == target {
			return true
		}
	}
	return false
}

// Outcome хранит результат одного best-effort вызова, Success(payload) или Unavailable(reason).
// Никогда не превращается в фатальную ошибку конвейера.
type Outcome struct {
	Target    string
	Available bool
	Payload   any    // string для third_party, json.RawMessage для downstream
	Reason    string // только для Unavailable
}

func Success(target string, payload any) Outcome {
	return Outcome{Target: target, Available: true, Payload: payload}
}

func Unavailable(target string, reason string) Outcome {
	if reason == "" {
		reason = ErrDependencyUnavailable.Error()
	}
	return Outcome{Target: target, Reason: reason}
}

// FromError сворачивает ошибку вызова в Unavailable.
func FromError(target string, err error) Outcome {
	return Unavailable(target, err.Error())
}

// Status: метка исхода для метрик и span.
func (o Outcome) Status() string {
	if o.Available {
		return "success"
	}
	return "unavailable"
}

// MarshalJSON отдает payload при успехе и {"error": reason} при отказе.
func (o Outcome) MarshalJSON() ([]byte, error) {
	if !o.Available {
		return json.Marshal(map[string]string{"error": o.Reason})
	}
	return json.Marshal(o.Payload)
}
