package app

import (
	"context"
	"encoding/json"
	"fmt"

	"bond-screener/internal/bonds"
)

// Coupons prints one instrument's coupon schedule.
func (a *App) Coupons(ctx context.Context, secid string, force bool) error {
	s, err := a.newServices(ctx)
	if err != nil {
		return err
	}
	defer s.close()

	entry, err := s.coupons.Get(ctx, secid, force)
	if err != nil {
		return err
	}
	return a.printJSON(entry)
}

// Rating prints one instrument's ratings. Without refresh an unknown
// instrument prints the placeholder and nothing is fetched.
func (a *App) Rating(ctx context.Context, secid, boardID string, refresh bool) error {
	s, err := a.newServices(ctx)
	if err != nil {
		return err
	}
	defer s.close()

	if boardID == "" {
		d, err := s.loader.Detail(ctx, secid)
		if err != nil {
			return err
		}
		boardID = bonds.AsString(d.Securities["BOARDID"])
	}

	list, err := s.ratings.Get(ctx, secid, boardID, refresh)
	if err != nil {
		return err
	}
	return a.printJSON(list)
}

// Issuer prints the reduced issuer view, searching by the instrument's ISIN
// on a cache miss.
func (a *App) Issuer(ctx context.Context, secid string) error {
	s, err := a.newServices(ctx)
	if err != nil {
		return err
	}
	defer s.close()

	isin, err := s.loader.ISIN(ctx, secid)
	if err != nil {
		return err
	}
	info, err := s.issuers.Info(ctx, secid, isin)
	if err != nil {
		return err
	}
	if info == nil {
		fmt.Fprintf(a.Out, "no issuer found for %s\n", secid)
		return nil
	}
	return a.printJSON(info)
}

func (a *App) printJSON(v any) error {
	enc := json.NewEncoder(a.Out)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	return enc.Encode(v)
}
