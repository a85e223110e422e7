package domain

import "errors"

// ErrNotFound возвращается репозиториями, когда запись отсутствует.
var ErrNotFound = errors.New("запись не найдена")

// ErrNoData возвращается рендером, когда для упомянутой точки нет кэша.
var ErrNoData = errors.New("нет данных для шаблона")

// TransportErrClass грубо классифицирует ошибки Bot API.
type TransportErrClass int

const (
	// TransportErrOther — любая прочая ошибка доставки.
	TransportErrOther TransportErrClass = iota
	// TransportErrNotFound — сообщение или чат не существуют.
	TransportErrNotFound
	// TransportErrForbidden — бот лишён прав в чате.
	TransportErrForbidden
)

// TransportError описывает ошибку Bot API с присвоенным классом.
// Класс назначается один раз на границе клиента, дальше ошибки
// различаются только через IsTransportNotFound/IsTransportForbidden.
type TransportError struct {
	Class       TransportErrClass
	Code        int
	Description string
}

func (e *TransportError) Error() string {
	if e.Description == "" {
		return "ошибка Bot API"
	}
	return e.Description
}

// IsTransportNotFound сообщает, что адресат операции не существует.
func IsTransportNotFound(err error) bool {
	var te *TransportError
	return errors.As(err, &te) && te.Class == TransportErrNotFound
}

// IsTransportForbidden сообщает, что боту не хватает прав.
func IsTransportForbidden(err error) bool {
	var te *TransportError
	return errors.As(err, &te) && te.Class == TransportErrForbidden
}
