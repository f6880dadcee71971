package memory

import (
	"context"
	"sort"

	"shopfiscal/internal/core/apperror"
	"shopfiscal/internal/core/id"
	"shopfiscal/internal/domain/setting"
)

// SettingRepo implements setting.Repository.
type SettingRepo struct{ store *Store }

var _ setting.Repository = (*SettingRepo)(nil)

// Settings returns the fiscal settings repository.
func (s *Store) Settings() *SettingRepo { return &SettingRepo{store: s} }

func cloneSetting(v *setting.Setting) *setting.Setting {
	c := *v
	if v.EffectiveTo != nil {
		to := *v.EffectiveTo
		c.EffectiveTo = &to
	}
	return &c
}

func (r *SettingRepo) Create(ctx context.Context, item *setting.Setting) error {
	return r.store.do(ctx, func(st *state) error {
		if _, ok := st.settings[item.ID]; ok {
			return apperror.NewDuplicate("CompanyFiscalSetting", "id", item.ID.String())
		}
		st.settings[item.ID] = cloneSetting(item)
		return nil
	})
}

func (r *SettingRepo) Update(ctx context.Context, item *setting.Setting) error {
	return r.store.do(ctx, func(st *state) error {
		cur, ok := st.settings[item.ID]
		if !ok || cur.OrgID != item.OrgID {
			return apperror.NewNotFound("CompanyFiscalSetting", item.ID.String())
		}
		if cur.Version != item.Version-1 {
			return apperror.NewConcurrentModification("CompanyFiscalSetting", item.ID.String())
		}
		st.settings[item.ID] = cloneSetting(item)
		return nil
	})
}

func (r *SettingRepo) GetByID(ctx context.Context, orgID, settingID id.ID) (*setting.Setting, error) {
	var out *setting.Setting
	err := r.store.do(ctx, func(st *state) error {
		cur, ok := st.settings[settingID]
		if !ok || cur.OrgID != orgID {
			return apperror.NewNotFound("CompanyFiscalSetting", settingID.String())
		}
		out = cloneSetting(cur)
		return nil
	})
	return out, err
}

func (r *SettingRepo) ListByOrg(ctx context.Context, orgID id.ID) ([]*setting.Setting, error) {
	var out []*setting.Setting
	err := r.store.do(ctx, func(st *state) error {
		for _, v := range st.settings {
			if v.OrgID == orgID {
				out = append(out, cloneSetting(v))
			}
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool { return out[i].EffectiveFrom.Before(out[j].EffectiveFrom) })
	return out, err
}

// LockOrg is a no-op: transactions already run one at a time.
func (r *SettingRepo) LockOrg(ctx context.Context, _ id.ID) error {
	if !r.store.inTx(ctx) {
		return errNoTx
	}
	return nil
}
