package topology

import (
	"context"
	"database/sql"

	"gorm.io/gorm"

	"github.com/ceyewan/fedgate/dialect"
	"github.com/ceyewan/fedgate/federation"
	"github.com/ceyewan/fedgate/xerrors"
)

// SQLDiscoverer 通过方言提供的元数据查询在根库上发现成员
type SQLDiscoverer struct {
	db      *gorm.DB
	dialect dialect.Dialect
}

// NewSQLDiscoverer 创建基于根库连接的发现器
func NewSQLDiscoverer(db *gorm.DB, d dialect.Dialect) *SQLDiscoverer {
	return &SQLDiscoverer{db: db, dialect: d}
}

func (s *SQLDiscoverer) FederationID(ctx context.Context, name string) (any, bool, error) {
	rows, err := s.db.WithContext(ctx).Raw(s.dialect.FederationIDQuery(), name).Rows()
	if err != nil {
		return nil, false, err
	}
	defer rows.Close()

	if !rows.Next() {
		return nil, false, rows.Err()
	}
	var id any
	if err := rows.Scan(&id); err != nil {
		return nil, false, err
	}
	return id, true, rows.Err()
}

// MemberBounds 首成员下界固定为 -∞，NULL 上界视为 +∞
func (s *SQLDiscoverer) MemberBounds(ctx context.Context, fed *federation.Federation, id any) ([]federation.Member, error) {
	rows, err := s.db.WithContext(ctx).Raw(s.dialect.MemberBoundsQuery(fed.RangeType), id).Rows()
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var members []federation.Member
	for rows.Next() {
		var low, high any
		var location sql.NullString
		if err := rows.Scan(&low, &high, &location); err != nil {
			return nil, err
		}

		m := federation.Member{
			Federation: fed.Name,
			Ordinal:    len(members),
			Low:        federation.NegInfinity(fed.RangeType),
			High:       federation.Infinity(fed.RangeType),
			Location:   location.String,
		}
		if low != nil && m.Ordinal > 0 {
			if m.Low, err = federation.Coerce(fed.RangeType, low); err != nil {
				return nil, xerrors.Wrapf(err, "member %d range_low", m.Ordinal)
			}
		}
		if high != nil {
			if m.High, err = federation.Coerce(fed.RangeType, high); err != nil {
				return nil, xerrors.Wrapf(err, "member %d range_high", m.Ordinal)
			}
		}
		members = append(members, m)
	}
	return members, rows.Err()
}
