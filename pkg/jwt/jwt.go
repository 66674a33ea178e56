package jwt

import (
	"errors"
	"regexp"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/spf13/viper"
)

type JWT struct {
	key []byte
}

type MyCustomClaims struct {
	UserId string
	jwt.RegisteredClaims
}

// TunnelClaims 迁移隧道票据，只允许访问指定节点上指定虚拟机的一个 socket
type TunnelClaims struct {
	VMID   uint32 `json:"vmid"`
	Node   string `json:"node"`
	Socket string `json:"socket"`
	jwt.RegisteredClaims
}

func NewJwt(conf *viper.Viper) *JWT {
	return &JWT{key: []byte(conf.GetString("security.jwt.key"))}
}

func (j *JWT) GenToken(userId string, expiresAt time.Time) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, MyCustomClaims{
		UserId: userId,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			NotBefore: jwt.NewNumericDate(time.Now()),
			Issuer:    "",
			Subject:   "",
			ID:        "",
			Audience:  []string{},
		},
	})

	// Sign and get the complete encoded token as a string using the key
	tokenString, err := token.SignedString(j.key)
	if err != nil {
		return "", err
	}
	return tokenString, nil
}

func (j *JWT) ParseToken(tokenString string) (*MyCustomClaims, error) {
	re := regexp.MustCompile(`(?i)Bearer `)
	tokenString = re.ReplaceAllString(tokenString, "")
	if tokenString == "" {
		return nil, errors.New("token is empty")
	}
	token, err := jwt.ParseWithClaims(tokenString, &MyCustomClaims{}, func(token *jwt.Token) (interface{}, error) {
		return j.key, nil
	})
	if err != nil {
		return nil, err
	}
	if claims, ok := token.Claims.(*MyCustomClaims); ok && token.Valid {
		return claims, nil
	} else {
		return nil, err
	}
}

// GenTunnelTicket 为迁移隧道签发短期票据
func (j *JWT) GenTunnelTicket(vmid uint32, node, socket string, ttl time.Duration) (string, error) {
	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, TunnelClaims{
		VMID:   vmid,
		Node:   node,
		Socket: socket,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			Subject:   "mtunnel/" + strconv.FormatUint(uint64(vmid), 10),
		},
	})
	return token.SignedString(j.key)
}

// ParseTunnelTicket 校验票据并确认其属于 vmid 和 socket
func (j *JWT) ParseTunnelTicket(ticket string, vmid uint32, socket string) (*TunnelClaims, error) {
	if ticket == "" {
		return nil, errors.New("ticket is empty")
	}
	token, err := jwt.ParseWithClaims(ticket, &TunnelClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return j.key, nil
	})
	if err != nil {
		return nil, err
	}
	claims, ok := token.Claims.(*TunnelClaims)
	if !ok || !token.Valid {
		return nil, errors.New("invalid tunnel ticket")
	}
	if claims.VMID != vmid {
		return nil, errors.New("tunnel ticket does not match vmid")
	}
	if claims.Socket != socket {
		return nil, errors.New("tunnel ticket does not match socket")
	}
	return claims, nil
}
