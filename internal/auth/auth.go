// Package auth содержит проверку почтового домена, вывод роли из адреса
// и вычисление набора разрешений пользователя.
package auth

import (
	"errors"
	"fmt"
	"strings"

	"github.com/mmeshcher/canteen-system/internal/model"
	"github.com/mmeshcher/canteen-system/internal/validation"
)

// ErrUnauthorizedDomain возвращается для адресов вне институтского домена.
var ErrUnauthorizedDomain = errors.New("email domain is not allowed")

// Resolver выводит роль и разрешения пользователя из его почтового адреса.
// Роль повторно вычисляется на сервере при каждом запросе: переданной клиентом
// роли доверять нельзя.
type Resolver struct {
	domain      string
	adminEmails map[string]struct{}
}

// NewResolver создаёт Resolver для указанного домена и списка адресов администраторов.
func NewResolver(domain string, adminEmails []string) *Resolver {
	admins := make(map[string]struct{}, len(adminEmails))
	for _, e := range adminEmails {
		e = strings.ToLower(strings.TrimSpace(e))
		if e != "" {
			admins[e] = struct{}{}
		}
	}
	return &Resolver{
		domain:      domain,
		adminEmails: admins,
	}
}

// Resolve проверяет домен адреса и возвращает пользователя с вычисленной ролью.
func (r *Resolver) Resolve(email, name string) (*model.User, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if !validation.HasDomain(email, r.domain) {
		return nil, fmt.Errorf("%w: %s", ErrUnauthorizedDomain, email)
	}

	if name == "" {
		name = validation.EmailLocalPart(email)
	}

	return &model.User{
		Email: email,
		Name:  name,
		Role:  r.DeriveRole(email),
	}, nil
}

// DeriveRole вычисляет роль по адресу: фиксированный список администраторов,
// затем сотрудники столовой по подстрокам "canteen"/"staff" в локальной части,
// иначе обычный сотрудник.
func (r *Resolver) DeriveRole(email string) model.Role {
	email = strings.ToLower(email)
	if _, ok := r.adminEmails[email]; ok {
		return model.RoleAdmin
	}

	local := validation.EmailLocalPart(email)
	if strings.Contains(local, "canteen") || strings.Contains(local, "staff") {
		return model.RoleStaff
	}

	return model.RoleEmployee
}

// defaultCapabilities возвращает разрешения роли по умолчанию.
func defaultCapabilities(role model.Role) model.CapabilitySet {
	return model.CapabilitySet{
		model.CapManageUsers:         role == model.RoleAdmin,
		model.CapManageMenu:          role == model.RoleAdmin || role == model.RoleStaff,
		model.CapViewReports:         true,
		model.CapApproveReservations: role == model.RoleAdmin || role == model.RoleStaff,
		model.CapDeleteData:          role == model.RoleAdmin,
	}
}

// ResolveCapabilities вычисляет итоговый набор разрешений: значения по
// умолчанию для роли, поверх которых применяются персональные переопределения.
// Чистая функция без побочных эффектов.
func ResolveCapabilities(role model.Role, overrides map[model.Capability]bool) model.CapabilitySet {
	caps := defaultCapabilities(role)
	for c, allowed := range overrides {
		if model.ValidCapability(c) {
			caps[c] = allowed
		}
	}
	return caps
}
