package postgres

import "gorm.io/gorm"

// TenantScope returns a GORM scope that filters by bot.
// Must be applied to every query in every repository method so one
// tenant's records never leak into another's.
func TenantScope(bot string) func(*gorm.DB) *gorm.DB {
	return func(db *gorm.DB) *gorm.DB {
		return db.Where("bot = ?", bot)
	}
}
