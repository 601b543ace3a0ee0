// Package repository содержит реализации хранилища задач, счетов и серий.
package repository

import "errors"

var (
	// ErrUserExists возвращается при попытке создать пользователя с уже существующим именем.
	ErrUserExists = errors.New("user already exists")
	// ErrAccountNotFound возвращается, если счёт не найден.
	ErrAccountNotFound = errors.New("account not found")
	// ErrTaskNotFound возвращается, если задача не найдена.
	ErrTaskNotFound = errors.New("task not found")
	// ErrInsufficientBalance возвращается, если операция сделала бы баланс отрицательным.
	ErrInsufficientBalance = errors.New("insufficient balance")
	// ErrAmountOutOfRange возвращается, если сумма или итоговый баланс не помещаются в хранилище.
	ErrAmountOutOfRange = errors.New("amount out of range")
	// ErrInconsistentState возвращается, если у задачи с залогом нет счёта владельца.
	ErrInconsistentState = errors.New("task owner account is missing")
)
