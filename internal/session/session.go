// Package session 提供时区感知的市场开闭盘判断。
package session

import (
	"fmt"
	"time"

	"paper-broker/internal/model"
)

type hours struct {
	openHour, openMinute   int
	closeHour, closeMinute int
}

type marketInfo struct {
	timezone string
	hours    hours
}

// 各市场的本地交易时段，周一至周五，节假日日历不在引擎范围内。
var marketInfos = map[model.Market]marketInfo{
	model.MarketNASDAQ: {"America/New_York", hours{9, 30, 16, 0}},
	model.MarketNYSE:   {"America/New_York", hours{9, 30, 16, 0}},
	model.MarketASX:    {"Australia/Sydney", hours{10, 0, 16, 0}},
	model.MarketTSX:    {"America/Toronto", hours{9, 30, 16, 0}},
}

// Checker 缓存时区对象并判断市场开闭盘。
type Checker struct {
	locations map[model.Market]*time.Location
}

// NewChecker 构造开闭盘检查器，加载全部市场时区。
func NewChecker() (*Checker, error) {
	locations := make(map[model.Market]*time.Location, len(marketInfos))
	for market, info := range marketInfos {
		loc, err := time.LoadLocation(info.timezone)
		if err != nil {
			return nil, fmt.Errorf("session: 加载时区 %s 失败: %w", info.timezone, err)
		}
		locations[market] = loc
	}
	return &Checker{locations: locations}, nil
}

// IsOpen 判断给定时刻市场是否处于交易时段。未知市场一律视为闭市。
func (c *Checker) IsOpen(market model.Market, now time.Time) bool {
	info, ok := marketInfos[market]
	if !ok {
		return false
	}

	local := now.In(c.locations[market])
	weekday := local.Weekday()
	if weekday == time.Saturday || weekday == time.Sunday {
		return false
	}

	open := time.Date(local.Year(), local.Month(), local.Day(),
		info.hours.openHour, info.hours.openMinute, 0, 0, local.Location())
	close := time.Date(local.Year(), local.Month(), local.Day(),
		info.hours.closeHour, info.hours.closeMinute, 0, 0, local.Location())

	return !local.Before(open) && local.Before(close)
}

// TimeUntilOpen 返回距下一次开盘的时长；市场已开盘时返回 (0, false)。
func (c *Checker) TimeUntilOpen(market model.Market, now time.Time) (time.Duration, bool) {
	info, ok := marketInfos[market]
	if !ok {
		return 0, false
	}
	if c.IsOpen(market, now) {
		return 0, false
	}

	local := now.In(c.locations[market])
	next := time.Date(local.Year(), local.Month(), local.Day(),
		info.hours.openHour, info.hours.openMinute, 0, 0, local.Location())

	for !next.After(local) || next.Weekday() == time.Saturday || next.Weekday() == time.Sunday {
		next = next.AddDate(0, 0, 1)
	}

	return next.Sub(local), true
}
